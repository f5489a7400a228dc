// Package refresher periodically recomputes cached insights for every
// subscribed symbol so that consumers rarely pay for a cold ANALYTICS miss.
package refresher
