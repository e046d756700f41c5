package period

import (
	"fmt"
	"time"

	ptime "github.com/yaa110/go-persian-calendar"
)

// 账期基于波斯历（Jalali）月份
// 本包只回答两个问题：某个时刻属于哪个账期、是否账期最后一天

// Period 账期，一个波斯历月份
type Period struct {
	Year  int
	Month int // 1-12
}

// Of 给定时刻所属账期
func Of(t time.Time) Period {
	pt := ptime.New(t.In(ptime.Iran()))
	return Period{Year: pt.Year(), Month: int(pt.Month())}
}

// Current 当前账期
func Current() Period {
	return Of(time.Now())
}

func (p Period) String() string {
	return fmt.Sprintf("%04d/%02d", p.Year, p.Month)
}

// Before 账期先后比较
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

// AddMonths 账期偏移，用于生成分期账期
func (p Period) AddMonths(n int) Period {
	total := (p.Year*12 + p.Month - 1) + n
	return Period{Year: total / 12, Month: total%12 + 1}
}

// Days 账期天数
// 波斯历：1-6月31天，7-11月30天，12月闰年30天否则29天
func (p Period) Days() int {
	switch {
	case p.Month <= 6:
		return 31
	case p.Month <= 11:
		return 30
	default:
		if ptime.Date(p.Year, ptime.Esfand, 1, 0, 0, 0, 0, ptime.Iran()).IsLeap() {
			return 30
		}
		return 29
	}
}

// FirstDay 账期第一天零点（伊朗时区）
func (p Period) FirstDay() time.Time {
	return ptime.Date(p.Year, ptime.Month(p.Month), 1, 0, 0, 0, 0, ptime.Iran()).Time()
}

// DayOf 给定时刻在其账期内的日序（1 起）
func DayOf(t time.Time) int {
	return ptime.New(t.In(ptime.Iran())).Day()
}

// IsLastDayOfMonth 是否账期最后一天
func IsLastDayOfMonth(t time.Time) bool {
	p := Of(t)
	return DayOf(t) == p.Days()
}
