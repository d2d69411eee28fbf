// Package subscription gates bot usage on membership in force-subscribe
// channels and manages user requests to add such channels.
//
// Membership checks fail open: when Telegram cannot answer, the user passes.
package subscription
