package ir

// Integer semantics shared by every backend. Arithmetic wraps on overflow;
// division and modulo by zero yield 0; modulo is floored; a negative
// exponent yields 0; shift counts are taken modulo 64.

func Apply(op Op, x, y int64) int64 {
	switch op {
	case OpAdd:
		return x + y
	case OpSub:
		return x - y
	case OpMul:
		return x * y
	case OpDiv:
		if y == 0 {
			return 0
		}
		return x / y
	case OpMod:
		return floorMod(x, y)
	case OpPow:
		return pow(x, y)
	case OpShl:
		return x << (uint64(y) & 63)
	case OpShr:
		return x >> (uint64(y) & 63)
	case OpAnd:
		return x & y
	case OpOr:
		return x | y
	case OpXor:
		return x ^ y
	case OpEq:
		return bool64(x == y)
	case OpNe:
		return bool64(x != y)
	case OpLt:
		return bool64(x < y)
	case OpLe:
		return bool64(x <= y)
	case OpGt:
		return bool64(x > y)
	case OpGe:
		return bool64(x >= y)
	default:
		return 0
	}
}

func ApplyUnary(op Op, x int64) int64 {
	switch op {
	case OpNeg:
		return -x
	case OpNot:
		return bool64(x == 0)
	default:
		return x
	}
}

func floorMod(x, y int64) int64 {
	if y == 0 {
		return 0
	}
	r := x % y
	if r != 0 && (r < 0) != (y < 0) {
		r += y
	}
	return r
}

// pow is exponentiation by squaring.
func pow(base, exp int64) int64 {
	if exp < 0 {
		return 0
	}
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

func bool64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
