// Package bot is the chat front end: it routes Telegram updates to handlers
// that read schedules and edit subscriptions in the store.
//
// Updates are sharded by chat id over a fixed worker set, so one chat's
// messages are handled in arrival order while different chats run in
// parallel. The "choosing a queue" step is per-chat in-memory state.
package bot
