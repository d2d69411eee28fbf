// Package tgui holds the Telegram presentation helpers used by the bot
// handlers: HTML escaping, a card builder, inline keyboards and callback
// data in the "scope:action:payload" form.
package tgui
