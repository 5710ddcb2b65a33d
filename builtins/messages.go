package builtins

import (
	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/schema"
)

func messageElements() []arbiter.TreeElement {
	msg := param("message", schema.Any{})
	return []arbiter.TreeElement{
		function(Messages, "add_error", "Adds a functional error; the rule goes on", nil, addError, msg),
		function(Messages, "add_warning", "Adds a warning", nil, addWarning, msg),
		function(Messages, "add_info", "Adds an information message", nil, addInfo, msg),
		function(Messages, "add_debug", "Adds a debug message", nil, addDebug, msg),
		function(Messages, "add_error_code", "Adds the message of a functional error code at its level", nil, addErrorCode,
			param("code", schema.String{})),
		function(Messages, "add_result_detail", "Stores a detail in the result", nil, addResultDetail,
			param("key", schema.String{}), param("value", schema.Any{})),
		function(Messages, "incomplete_inputs", "Stops the rule because the data it needs is not available yet", nil, incompleteInputs),
	}
}

func addError(c *arbiter.Call) (any, error) {
	c.AddError(stringArg(c, "message"))
	return nil, nil
}

func addWarning(c *arbiter.Call) (any, error) {
	c.AddWarning(stringArg(c, "message"))
	return nil, nil
}

func addInfo(c *arbiter.Call) (any, error) {
	c.AddInfo(stringArg(c, "message"))
	return nil, nil
}

func addDebug(c *arbiter.Call) (any, error) {
	c.AddDebug(stringArg(c, "message"))
	return nil, nil
}

func addErrorCode(c *arbiter.Call) (any, error) {
	return nil, c.AddErrorCode(stringArg(c, "code"))
}

func addResultDetail(c *arbiter.Call) (any, error) {
	v, _ := c.Arg("value")
	c.AddDetail(stringArg(c, "key"), v)
	return nil, nil
}

func incompleteInputs(c *arbiter.Call) (any, error) {
	return nil, c.Incomplete()
}
