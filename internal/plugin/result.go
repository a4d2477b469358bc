package plugin

// resultKind tells the three outcomes of a method call apart.
type resultKind int

const (
	kindSuccess resultKind = iota
	kindFailure
	kindNotImplemented
)

// Result is the single answer to one method call.
type Result struct {
	kind    resultKind
	Value   interface{}
	Code    string
	Message string
	Details interface{}
}

func Success(value interface{}) Result {
	return Result{kind: kindSuccess, Value: value}
}

func Failure(code, message string, details interface{}) Result {
	return Result{kind: kindFailure, Code: code, Message: message, Details: details}
}

func NotImplemented() Result {
	return Result{kind: kindNotImplemented}
}

func (r Result) IsSuccess() bool        { return r.kind == kindSuccess }
func (r Result) IsFailure() bool        { return r.kind == kindFailure }
func (r Result) IsNotImplemented() bool { return r.kind == kindNotImplemented }
