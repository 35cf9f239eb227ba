// Package dedupe remembers recently seen mesh packets so that a command
// observed on both the client side and the upstream side is handled once.
package dedupe
