package runtime

import (
	"testing"

	"box/test"
)

func TestBasicPrograms(t *testing.T) {
	tests := []test.TestCase{
		{
			Name:     "print text",
			Script:   `box main do print("hello world") end end`,
			ExitCode: 0,
			Stdout:   "hello world",
		},
		{
			Name: "arithmetic",
			Script: `box main do
  print(7 / 2, -7 % 3, 2 ** 10, 5 / 0, 1 << 4, 2 ** -1)
end end`,
			ExitCode: 0,
			Stdout:   "3 2 1024 0 16 0",
		},
		{
			Name: "logic and bitwise",
			Script: `box main do
  print(!0, !5, 3 == 3, (1 | 4) ^ 1)
end end`,
			ExitCode: 0,
			Stdout:   "1 0 1 4",
		},
		{
			Name: "loop",
			Script: `box main do
  x = 0
  sum = 0
  loop x < 5
    x = x + 1
    sum = sum + x
  end
  print(sum)
end end`,
			ExitCode: 0,
			Stdout:   "15",
		},
		{
			Name: "conditional with else",
			Script: `box main do
  if 3 > 2
    print("yes")
  else
    print("no")
  end
end end`,
			ExitCode: 0,
			Stdout:   "yes",
		},
		{
			Name: "let shadows in a nested block",
			Script: `box main do
  x = 1
  do
    let x = 2
    print(x)
  end
  print(x)
end end`,
			ExitCode: 0,
			Stdout: `2
1`,
		},
		{
			Name: "exports across boxes",
			Script: `box counter export n do
  n = n + 1
end end

box main do
  counter()
  counter()
  counter()
  print(counter.n)
end end`,
			ExitCode: 0,
			Stdout:   "3",
		},
		{
			Name:     "builtins",
			Script:   `box main do print(abs(-5), min(3, 9), max(3, 9)) end end`,
			ExitCode: 0,
			Stdout:   "5 3 9",
		},
		{
			Name: "entry box flag",
			Script: `box main do print("main") end end
box other do print("other") end end`,
			Args:     []string{"-box", "other"},
			ExitCode: 0,
			Stdout:   "other",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.Name, func(t *testing.T) {
			test.RunBoxTest(t, testCase)
		})
	}
}

func TestTestDataPrograms(t *testing.T) {
	for _, file := range []string{"fizz.box", "collatz.box"} {
		content, err := test.LoadTestDataFile(file)
		if err != nil {
			t.Fatalf("Failed to load %s: %v", file, err)
		}
		testCase := test.ParseTestCase(content)
		t.Run(testCase.Name, func(t *testing.T) {
			test.RunBoxTest(t, *testCase)
		})
	}
}
