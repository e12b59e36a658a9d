// Package tgui provides small Telegram UI helpers:
//   - HTML fragments that are safe for ParseMode="HTML"
//   - Reply keyboards (persistent bottom menu)
//   - Inline keyboard builders
package tgui
