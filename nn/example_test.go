package nn

import (
	"fmt"
	"math/rand"
)

func ExampleNewSequential() {
	rng := rand.New(rand.NewSource(1))
	down, err := NewConv1d(rng, 1, 8, 9, WithStride(4))
	if err != nil {
		fmt.Println(err)
		return
	}
	up, err := NewConvTranspose1d(rng, 8, 1, 8, 4)
	if err != nil {
		fmt.Println(err)
		return
	}
	net := NewSequential(down, NewLeakyReLU(0.2), up)

	u, d := net.Ratio()
	fmt.Println(net.Delay(), u, d)
	// Output:
	// 6 1 1
}
