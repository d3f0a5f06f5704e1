// Package ratelimit paces requests against the course site.
//
// Pacing is off unless rate_limit.requests_per_minute is set; when enabled,
// the site session waits on a SlidingWindow before every request so a large
// catalog does not hammer the server.
package ratelimit
