package models

import "time"

// MessageReceipt is the per-client poll/ack state: one row per client,
// created lazily on the first poll or ack. LastAckedMessageID is
// monotonically non-decreasing; zero means nothing acknowledged yet.
type MessageReceipt struct {
	ClientID            string
	LastAckedMessageID  int64
	PollIntervalSeconds int
	LastPolledAt        *time.Time
	NextPollAt          *time.Time
}
