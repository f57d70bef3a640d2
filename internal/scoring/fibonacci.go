package scoring

// Fibonacci returns the n-th term of 0, 1, 2, 3, 5, 8, 13, ...
func Fibonacci(n int) float64 {
	switch {
	case n <= 0:
		return 0
	case n == 1:
		return 1
	}
	a, b := 1.0, 2.0
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}

// Acceptance is the averaging-down threshold for the next buy
type Acceptance struct {
	InitialFib   float64 `json:"initial_fib"`
	A            int     `json:"a"`
	FibN         float64 `json:"fib_n"`
	NextStepCoef float64 `json:"next_step_coef"`
}

// FibonacciAcceptance computes nextStepCoef = 1 - fibN*0.01 where
// fibN = fib(tradeCount) / (1 + k*max(0, ghostPairs-tradeCount)).
// A new average cost must not exceed oldAverage*NextStepCoef.
func FibonacciAcceptance(tradeCount, ghostPairs int, k float64) Acceptance {
	fib := Fibonacci(tradeCount)
	a := ghostPairs - tradeCount
	if a < 0 {
		a = 0
	}
	fibN := fib / (1 + k*float64(a))
	return Acceptance{
		InitialFib:   fib,
		A:            a,
		FibN:         fibN,
		NextStepCoef: 1 - fibN*0.01,
	}
}

// Accepts reports whether newAvg satisfies the threshold against oldAvg.
// Without an existing position every buy is accepted.
func (a Acceptance) Accepts(oldAvg, newAvg float64, hasPosition bool) bool {
	if !hasPosition {
		return true
	}
	return newAvg <= oldAvg*a.NextStepCoef
}
