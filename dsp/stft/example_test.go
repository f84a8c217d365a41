package stft

import "fmt"

func ExampleNew() {
	t, err := New(512, 0.75)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(t.Size(), t.Hop(), t.Bins())
	// Output:
	// 512 128 257
}

func ExampleNewMultiscale() {
	ms, err := NewMultiscale([]int{1024, 512, 256}, 0.75)
	if err != nil {
		fmt.Println(err)
		return
	}
	for _, t := range ms.Scales() {
		fmt.Println(t.Size(), t.Hop())
	}
	// Output:
	// 1024 256
	// 512 128
	// 256 64
}
