package common

import "time"

// Version is stamped by the build via -ldflags.
var Version = "v0.0.0-dev"

// StartTime is the process start, unix seconds.
var StartTime = time.Now().Unix()
