// Package timers parses timer specifications into deadlines.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 30 2 * * *" (optional seconds), "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - One-shot timestamp: "at:2026-01-02T15:04:05Z" (RFC 3339)
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
//   - "at:" is required for timestamps
package timers
