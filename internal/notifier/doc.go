// Package notifier delivers operator notifications (run summaries, schedule
// errors) through the chat transport.
//
// Notify only enqueues. A small worker pool drains the queue under a shared
// token bucket and retries failed sends with exponential backoff, so a slow
// or flaky chat API never stalls a sign-in run.
//
// A notification without a target goes to the configured default chat.
package notifier
