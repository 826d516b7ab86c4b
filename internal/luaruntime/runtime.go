// Package luaruntime names the globals compiled code assumes a host
// runtime library provides: the table constructor, the numeric
// for-loop validator, and one dispatcher function per Lua operator.
// Compiled code never applies a Lua operator itself — every source
// operator is a call to one of these by name, keeping generated code
// free of type-coercion logic (§6 of the specification). The host
// COMPARE_OP and BINARY_ADD instructions codegen does emit serve only
// its own bookkeeping: truthiness tests, for-loop direction checks,
// tuple concatenation and table-constructor key counting.
//
// Grounded in 256lights-zb's internal/luacode/tag_methods.go, which
// names its own metamethod keys the same way: exported constants with
// a short doc comment each, rather than a single untyped string table.
package luaruntime

// LuaTable is the table constructor: called as
// LuaTable(initialFields, nextIntegerKey).
const LuaTable = "LuaTable"

// ValidateForloop checks and coerces a numeric for-loop's three control
// values, called as validate_forloop(start, stop, step) and returning
// the coerced (start, stop, step) triple.
const ValidateForloop = "validate_forloop"

// Binary operator dispatcher names, one per BinaryOperator. `and` and
// `or` dispatch through .band/.bor like every other operator: both
// operands are always evaluated and handed to the runtime, which
// decides which to return.
const (
	BinaryAdd    = ".b+"
	BinarySub    = ".b-"
	BinaryMul    = ".b*"
	BinaryDiv    = ".b/"
	BinaryMod    = ".b%"
	BinaryPow    = ".b^"
	BinaryConcat = ".b.."
	BinaryEq     = ".b=="
	BinaryNe     = ".b~="
	BinaryLt     = ".b<"
	BinaryLe     = ".b<="
	BinaryGt     = ".b>"
	BinaryGe     = ".b>="
	BinaryAnd    = ".band"
	BinaryOr     = ".bor"
)

// Unary operator dispatcher names.
const (
	UnaryNeg = ".u-"
	UnaryLen = ".u#"
	UnaryNot = ".unot"
)
