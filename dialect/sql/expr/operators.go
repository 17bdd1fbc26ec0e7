package expr

// Op is an SQL operator.
type Op int

// Operators.
const (
	OpNone Op = iota
	OpAnd
	OpOr
	OpComma
	OpAs
	OpNot
	OpExists
	OpDistinct
	OpAsc
	OpDesc
	OpEQ
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpLike
	OpNotLike
	OpIn
	OpNotIn
	OpIs
	OpIsNot
	OpBetween
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpConcat
	OpFrom
)

var opText = map[Op]string{
	OpAnd:      "AND",
	OpOr:       "OR",
	OpComma:    ",",
	OpAs:       "AS",
	OpNot:      "NOT",
	OpExists:   "EXISTS",
	OpDistinct: "DISTINCT",
	OpAsc:      "ASC",
	OpDesc:     "DESC",
	OpEQ:       "=",
	OpNE:       "!=",
	OpLT:       "<",
	OpLE:       "<=",
	OpGT:       ">",
	OpGE:       ">=",
	OpLike:     "LIKE",
	OpNotLike:  "NOT LIKE",
	OpIn:       "IN",
	OpNotIn:    "NOT IN",
	OpIs:       "IS",
	OpIsNot:    "IS NOT",
	OpBetween:  "BETWEEN",
	OpAdd:      "+",
	OpSub:      "-",
	OpMul:      "*",
	OpDiv:      "/",
	OpMod:      "%",
	OpConcat:   "||",
}

// String returns the SQL text of the operator.
func (o Op) String() string { return opText[o] }

const (
	precSmallest = -1000
	precLargest  = 1000
)

var precedence = map[Op]int{
	OpFrom:     15,
	OpMul:      7,
	OpDiv:      7,
	OpMod:      7,
	OpAdd:      6,
	OpSub:      6,
	OpConcat:   6,
	OpLike:     5,
	OpNotLike:  5,
	OpIn:       5,
	OpNotIn:    5,
	OpIs:       5,
	OpIsNot:    5,
	OpEQ:       5,
	OpNE:       5,
	OpGT:       5,
	OpLT:       5,
	OpGE:       5,
	OpLE:       5,
	OpBetween:  5,
	OpDistinct: 5,
	OpNot:      5,
	OpAnd:      3,
	OpOr:       2,
	OpComma:    -1,
	OpAs:       -1,
	OpExists:   0,
}

// Precedence returns the binding strength of op. Unknown operators bind
// weakest.
func Precedence(op Op) int {
	if p, ok := precedence[op]; ok {
		return p
	}
	return precSmallest
}

// Associative reports whether a op (b op c) equals (a op b) op c.
func Associative(op Op) bool {
	switch op {
	case OpAnd, OpOr, OpAdd, OpMul, OpConcat, OpComma:
		return true
	}
	return false
}

// NeedsGrouping reports whether an expression with operator op must be
// parenthesized when embedded into an expression with operator against.
// OpNone as against means top level, where nothing is grouped.
func NeedsGrouping(op, against Op) bool {
	if against == OpNone {
		return false
	}
	if op == against && Associative(op) {
		return false
	}
	ap, ok := precedence[against]
	if !ok {
		ap = precLargest
	}
	return Precedence(op) <= ap
}

// negations maps comparison operators to their negated form.
var negations = map[Op]Op{
	OpEQ:      OpNE,
	OpNE:      OpEQ,
	OpLT:      OpGE,
	OpGE:      OpLT,
	OpGT:      OpLE,
	OpLE:      OpGT,
	OpLike:    OpNotLike,
	OpNotLike: OpLike,
	OpIn:      OpNotIn,
	OpNotIn:   OpIn,
	OpIs:      OpIsNot,
	OpIsNot:   OpIs,
}
