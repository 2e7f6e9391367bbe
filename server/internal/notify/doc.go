// Package notify records topic set changes and posts them to Slack, Teams,
// or generic HTTP webhooks. Delivery runs in the background and never blocks
// the poller.
package notify
