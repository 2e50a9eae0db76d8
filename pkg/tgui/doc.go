// Package tgui holds small helpers for building Telegram HTML replies.
//
// Values of type H are already escaped and safe to send with ParseMode=HTML.
package tgui
