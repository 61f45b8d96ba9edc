// Package tgui provides small Telegram text helpers:
//   - HTML fragments that are safe for ParseMode="HTML" (auto escaping)
//   - Rune-aware truncation and measuring for Telegram's size limits
package tgui
