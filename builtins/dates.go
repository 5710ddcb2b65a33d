package builtins

import (
	"strings"
	"time"

	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/datecalc"
	"github.com/ezachrisen/arbiter/schema"
)

func dateElements() []arbiter.TreeElement {
	date := param("date", schema.Date{})
	date1, date2 := param("date1", schema.Date{}), param("date2", schema.Date{})
	duration := optional("duration", schema.Int{})
	stick := optional("stick_to_end_of_month", schema.Bool{})

	return []arbiter.TreeElement{
		function(Dates, "today", "Date of the evaluation", schema.Date{}, today),
		function(Dates, "calculation_date", "The date argument of the evaluation, today when it has none", schema.Date{}, calculationDate),
		function(Dates, "years_between", "Whole years from date1 to date2, date2 included", schema.Int{}, between(datecalc.YearsBetween), date1, date2),
		function(Dates, "months_between", "Whole months from date1 to date2, date2 included", schema.Int{}, between(datecalc.MonthsBetween), date1, date2),
		function(Dates, "days_between", "Days from date1 to date2, both included", schema.Int{}, between(datecalc.DaysBetween), date1, date2),
		function(Dates, "add_days", "Adds days to a date", schema.Date{}, addDuration(datecalc.Day), date, duration),
		function(Dates, "add_weeks", "Adds weeks to a date", schema.Date{}, addDuration(datecalc.Week), date, duration),
		function(Dates, "add_months", "Adds months to a date", schema.Date{}, addDuration(datecalc.Month), date, duration, stick),
		function(Dates, "add_years", "Adds years to a date", schema.Date{}, addDuration(datecalc.Year), date, duration, stick),
		function(Dates, "add_quarters", "Adds quarters to a date", schema.Date{}, addDuration(datecalc.Quarter), date, duration, stick),
		function(Dates, "add_half_years", "Adds half years to a date", schema.Date{}, addDuration(datecalc.HalfYear), date, duration, stick),
		function(Dates, "end_of_period", "Last day of the period of duration frequencies starting on date", schema.Date{}, endOfPeriod,
			date, param("frequency", schema.String{}), duration),
		function(Dates, "convert_frequency", "Factor turning an amount per from_frequency into an amount per to_frequency", schema.Float{}, convertFrequency,
			param("from_frequency", schema.String{}), param("to_frequency", schema.String{})),
		function(Dates, "date_as_string", "Formats a date (default layout %Y-%m-%d)", schema.String{}, dateAsString,
			date, optional("layout", schema.String{})),
	}
}

func today(c *arbiter.Call) (any, error) {
	return c.Today(), nil
}

func calculationDate(c *arbiter.Call) (any, error) {
	if d, ok := c.Args["date"].(time.Time); ok {
		return datecalc.Date(d), nil
	}
	return c.Today(), nil
}

func between(f func(start, end time.Time) int) arbiter.Func {
	return func(c *arbiter.Call) (any, error) {
		d1, err := dateArg(c, "date1")
		if err != nil {
			return nil, err
		}
		d2, err := dateArg(c, "date2")
		if err != nil {
			return nil, err
		}
		return int64(f(d1, d2)), nil
	}
}

func addDuration(u datecalc.Unit) arbiter.Func {
	return func(c *arbiter.Call) (any, error) {
		d, err := dateArg(c, "date")
		if err != nil {
			return nil, err
		}
		n, err := intArg(c, "duration", 1)
		if err != nil {
			return nil, err
		}
		return datecalc.Add(d, u, n, boolArg(c, "stick_to_end_of_month", false))
	}
}

func endOfPeriod(c *arbiter.Call) (any, error) {
	d, err := dateArg(c, "date")
	if err != nil {
		return nil, err
	}
	u, err := datecalc.ParseUnit(stringArg(c, "frequency"))
	if err != nil {
		return nil, err
	}
	n, err := intArg(c, "duration", 1)
	if err != nil {
		return nil, err
	}
	return datecalc.EndOfPeriod(d, u, n)
}

func convertFrequency(c *arbiter.Call) (any, error) {
	from, err := datecalc.ParseUnit(stringArg(c, "from_frequency"))
	if err != nil {
		return nil, err
	}
	to, err := datecalc.ParseUnit(stringArg(c, "to_frequency"))
	if err != nil {
		return nil, err
	}
	return datecalc.ConvertFrequency(from, to)
}

var strftime = strings.NewReplacer("%Y", "2006", "%m", "01", "%d", "02", "%y", "06", "%B", "January", "%b", "Jan")

func dateAsString(c *arbiter.Call) (any, error) {
	d, err := dateArg(c, "date")
	if err != nil {
		return nil, err
	}
	layout := schema.DateLayout
	if l, ok := c.Arg("layout"); ok && l != nil {
		layout = strftime.Replace(stringArg(c, "layout"))
	}
	return d.Format(layout), nil
}
