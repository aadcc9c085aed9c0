package utils

import (
	"time"
)

// Payment window and scheduling constants
const (
	// WalletTTL is the payment window for an ephemeral deposit wallet (24 hours)
	WalletTTL = 24 * time.Hour

	// MonitorInterval is the default delay between deposit monitor cycles
	MonitorInterval = 15 * time.Second

	// SweepInterval is the default delay between sweep cycles
	SweepInterval = 60 * time.Second

	// RateCacheTTL is the time-to-live for cached exchange rates (5 minutes)
	RateCacheTTL = 5 * time.Minute

	// DefaultBlockWindow is how many recent blocks the monitor scans per wallet
	DefaultBlockWindow = 50
)

// Currency constants
const (
	TomanCurrency = "TMN"

	// WeiPerCoin is the number of wei in one chain-native coin
	WeiPerCoin = 1e18
)
