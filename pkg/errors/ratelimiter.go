package errors

import (
	"sync"
	"time"
)

// 超过该数量的调用位置时清理静默期已过的统计
const maxTrackedStacks = 1024

// rateLimiter 按调用栈位置限制上报频率
type rateLimiter struct {
	lock   sync.Mutex
	silent time.Duration
	now    func() time.Time
	buffer map[string]*errorStats
}

func newRateLimiter(silent time.Duration) *rateLimiter {
	return &rateLimiter{
		silent: silent,
		now:    time.Now,
		buffer: map[string]*errorStats{},
	}
}

type errorStats struct {
	// 总计的发生次数
	totalOccurCount int
	// 上次报告过后发生的次数
	occurCountSinceLastReport int
	// 最近上报时间
	lastReportTime *time.Time
}

func (in *errorStats) Copy() *errorStats {
	return &errorStats{
		totalOccurCount:           in.totalOccurCount,
		occurCountSinceLastReport: in.occurCountSinceLastReport,
		lastReportTime:            in.lastReportTime,
	}
}

// StackBasedRateLimited 返回该位置是否处于静默期，以及本次判断前的统计快照
func (b *rateLimiter) StackBasedRateLimited(stack string) (bool, *errorStats) {
	b.lock.Lock()
	defer b.lock.Unlock()
	now := b.now()
	stats := b.buffer[stack]
	if stats == nil {
		if len(b.buffer) >= maxTrackedStacks {
			b.evict(now)
		}
		stats = &errorStats{}
		b.buffer[stack] = stats
	}
	cp := stats.Copy()
	stats.totalOccurCount++
	// 上报过但不满足推迟时间
	if stats.lastReportTime != nil && now.Sub(*stats.lastReportTime) < b.silent {
		stats.occurCountSinceLastReport++
		return true, cp
	}
	stats.occurCountSinceLastReport = 0
	stats.lastReportTime = &now
	return false, cp
}

func (b *rateLimiter) evict(now time.Time) {
	for stack, stats := range b.buffer {
		if stats.lastReportTime == nil || now.Sub(*stats.lastReportTime) >= b.silent {
			delete(b.buffer, stack)
		}
	}
}
