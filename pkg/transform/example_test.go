package transform_test

import (
	"fmt"

	"github.com/matzehuels/sitepix/pkg/transform"
)

func ExampleResolve() {
	t, err := transform.Resolve(transform.Request{
		Src:         "/assets/hero.jpg",
		Width:       1600,
		AspectRatio: "16:9",
		Format:      transform.FormatWebP,
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(t.Width, t.Height)
	fmt.Println(t.Key())
	// Output:
	// 1600 900
	// src=/assets/hero.jpg&w=1600&h=900&f=webp
}

func ExampleParse() {
	t, err := transform.Parse("src=/cat.jpg&w=400&h=300&f=jpg")
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(t.Src, t.Width, t.Height, t.Format)
	// Output: /cat.jpg 400 300 jpeg
}
