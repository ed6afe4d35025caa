// Package notifier delivers rotation notices to the log chat.
//
// Notify only enqueues. A small worker pool drains the queue through a
// kit.Sender under a token-bucket rate limit, retrying failed sends with
// jittered exponential backoff. Identical notices inside DedupWindow are
// suppressed; with PersistDedup the window survives restarts.
//
// A full queue drops the notice and publishes eventbus.TypeNotifyDropped, so a
// slow Telegram never stalls a rotation worker.
package notifier
