package timestamp_test

import (
	"fmt"

	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/pkg/timestamp"
)

func ExampleParse() {
	for _, v := range []any{"2023-01-15T12:30:45Z", int64(1673784645), float64(1673784645123)} {
		ts, err := timestamp.Parse(v)
		if err != nil {
			fmt.Println(err)
			continue
		}
		fmt.Println(timestamp.ToUnixMs(ts))
	}

	// Output:
	// 1673785845000
	// 1673784645000
	// 1673784645123
}

func ExampleFormat() {
	fmt.Println(timestamp.Format(1673785845123))

	// Output:
	// 2023-01-15T12:30:45.123Z
}
