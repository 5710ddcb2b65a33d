package datecalc_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ezachrisen/arbiter/datecalc"
	"github.com/ezachrisen/arbiter/schema"
	"github.com/matryer/is"
)

func d(y int, m time.Month, day int) time.Time {
	return schema.NewDate(y, m, day)
}

func TestAddMonths(t *testing.T) {

	cases := map[string]struct {
		date  time.Time
		n     int
		stick bool
		want  time.Time
	}{
		"simple":                 {date: d(2020, 1, 15), n: 1, want: d(2020, 2, 15)},
		"clamped to leap day":    {date: d(2020, 1, 31), n: 1, want: d(2020, 2, 29)},
		"clamped":                {date: d(2021, 1, 31), n: 1, want: d(2021, 2, 28)},
		"across years":           {date: d(2020, 11, 30), n: 3, want: d(2021, 2, 28)},
		"negative":               {date: d(2020, 3, 31), n: -1, want: d(2020, 2, 29)},
		"negative across years":  {date: d(2020, 1, 15), n: -13, want: d(2018, 12, 15)},
		"stick to end of month":  {date: d(2015, 2, 28), n: 1, stick: true, want: d(2015, 3, 31)},
		"not at end of month":    {date: d(2015, 2, 27), n: 1, stick: true, want: d(2015, 3, 27)},
		"without sticking":       {date: d(2015, 2, 28), n: 1, want: d(2015, 3, 28)},
		"time of day is dropped": {date: time.Date(2020, 1, 15, 23, 0, 0, 0, time.FixedZone("x", 3600)), n: 0, want: d(2020, 1, 15)},
	}

	for k, c := range cases {
		got := datecalc.AddMonths(c.date, c.n, c.stick)
		if !got.Equal(c.want) {
			t.Errorf("%s: got %s, wanted %s", k, got.Format(schema.DateLayout), c.want.Format(schema.DateLayout))
		}
	}
}

func TestAdd(t *testing.T) {
	is := is.New(t)

	got, err := datecalc.Add(d(2015, 2, 28), datecalc.Year, 1, true)
	is.NoErr(err)
	is.Equal(got, d(2016, 2, 29))

	got, err = datecalc.Add(d(2020, 1, 1), datecalc.Quarter, 2, false)
	is.NoErr(err)
	is.Equal(got, d(2020, 7, 1))

	got, err = datecalc.Add(d(2020, 1, 1), datecalc.Week, 2, false)
	is.NoErr(err)
	is.Equal(got, d(2020, 1, 15))

	_, err = datecalc.Add(d(2020, 1, 1), datecalc.Unit("fortnight"), 1, false)
	is.True(errors.Is(err, datecalc.ErrUnknownUnit))
}

func TestEndOfPeriod(t *testing.T) {
	is := is.New(t)

	got, err := datecalc.EndOfPeriod(d(2020, 1, 1), datecalc.Year, 1)
	is.NoErr(err)
	is.Equal(got, d(2020, 12, 31))

	got, err = datecalc.EndOfPeriod(d(2020, 2, 1), datecalc.Month, 1)
	is.NoErr(err)
	is.Equal(got, d(2020, 2, 29))

	is.Equal(datecalc.EndOfMonth(d(2021, 2, 3)), d(2021, 2, 28))
	is.Equal(datecalc.BeginningOfMonth(d(2021, 2, 3)), d(2021, 2, 1))
	is.Equal(datecalc.LastDayOfLastMonth(d(2021, 3, 3)), d(2021, 2, 28))
}

func TestBetween(t *testing.T) {

	cases := map[string]struct {
		start, end time.Time
		days       int
		months     int
		years      int
	}{
		"one month":        {start: d(2013, 1, 1), end: d(2013, 1, 31), days: 31, months: 1, years: 0},
		"one quarter":      {start: d(2013, 1, 1), end: d(2013, 3, 31), days: 90, months: 3, years: 0},
		"one year":         {start: d(2013, 1, 1), end: d(2013, 12, 31), days: 365, months: 12, years: 1},
		"not quite a year": {start: d(2013, 1, 1), end: d(2013, 12, 30), days: 364, months: 11, years: 0},
		"same day":         {start: d(2020, 5, 5), end: d(2020, 5, 5), days: 1, months: 0, years: 0},
		"end of month":     {start: d(2020, 1, 31), end: d(2020, 2, 28), days: 29, months: 1, years: 0},
		"birthday":         {start: d(1980, 6, 15), end: d(2020, 6, 14), days: 14610, months: 480, years: 40},
	}

	for k, c := range cases {
		if got := datecalc.DaysBetween(c.start, c.end); got != c.days {
			t.Errorf("%s: days: got %d, wanted %d", k, got, c.days)
		}
		if got := datecalc.MonthsBetween(c.start, c.end); got != c.months {
			t.Errorf("%s: months: got %d, wanted %d", k, got, c.months)
		}
		if got := datecalc.YearsBetween(c.start, c.end); got != c.years {
			t.Errorf("%s: years: got %d, wanted %d", k, got, c.years)
		}
	}
}

func TestYearsBetweenReversed(t *testing.T) {
	is := is.New(t)
	is.Equal(datecalc.YearsBetween(d(2020, 12, 31), d(2018, 1, 1)), -3)
}

func TestYearsBetweenProrata(t *testing.T) {
	is := is.New(t)

	got := datecalc.YearsBetweenProrata(d(2019, 1, 1), d(2020, 3, 13))
	want, _ := schema.ParseDecimal("1.2") // one year and 73 days
	is.True(schema.Equal(got, want))
}

func TestDurationBetween(t *testing.T) {
	is := is.New(t)

	q, err := datecalc.DurationBetween(d(2013, 1, 1), d(2013, 3, 31), datecalc.Quarter)
	is.NoErr(err)
	is.True(schema.Equal(q, int64(1)))

	n, exact, err := datecalc.IsExactDuration(d(2013, 1, 1), d(2013, 12, 31), datecalc.Year)
	is.NoErr(err)
	is.Equal(n, 1)
	is.True(exact)

	n, exact, err = datecalc.IsExactDuration(d(2013, 1, 1), d(2014, 1, 1), datecalc.Month)
	is.NoErr(err)
	is.Equal(n, 12)
	is.True(!exact)
}

func TestConvertFrequency(t *testing.T) {
	is := is.New(t)

	monthly, err := datecalc.ParseUnit("monthly")
	is.NoErr(err)
	yearly, err := datecalc.ParseUnit("yearly")
	is.NoErr(err)

	f, err := datecalc.ConvertFrequency(monthly, yearly)
	is.NoErr(err)
	is.Equal(f, 12.0)

	f, err = datecalc.ConvertFrequency(yearly, datecalc.Quarter)
	is.NoErr(err)
	is.Equal(f, 0.25)

	_, err = datecalc.ConvertFrequency(datecalc.Week, yearly)
	is.True(errors.Is(err, datecalc.ErrUnsupportedFrequency))

	_, err = datecalc.ParseUnit("hourly")
	is.True(errors.Is(err, datecalc.ErrUnknownUnit))
}

func TestNextDateInSyncWith(t *testing.T) {
	is := is.New(t)
	is.Equal(datecalc.NextDateInSyncWith(d(2020, 1, 10), 15), d(2020, 1, 15))
	is.Equal(datecalc.NextDateInSyncWith(d(2020, 1, 20), 15), d(2020, 2, 15))
	is.Equal(datecalc.NextDateInSyncWith(d(2020, 1, 31), 30), d(2020, 2, 29))
}
