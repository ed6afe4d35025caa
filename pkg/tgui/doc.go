// Package tgui builds Telegram HTML text safely: every helper escapes its
// input, and Builder output is split into messages under Telegram's limit.
package tgui
