package sysdb

import "time"

func nowEpochMs() int64 {
	return time.Now().UnixMilli()
}

func nowUnixSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
