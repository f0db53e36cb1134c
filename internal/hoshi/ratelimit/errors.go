package ratelimit

import "errors"

// ErrRateLimited is returned by middleware when a user's bucket is empty.
// It is an expected condition and is not logged as an error.
var ErrRateLimited = errors.New("ratelimit: too many requests")

// ExceededMessage is the reply sent to users whose bucket is empty.
const ExceededMessage = "⏳ You're sending messages too fast. Please wait a few seconds and try again."
