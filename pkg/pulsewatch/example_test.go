package pulsewatch_test

import (
	"fmt"
	"log"

	"github.com/crimson-sun/pulsewatch/internal/envelope"
	"github.com/crimson-sun/pulsewatch/pkg/pulsewatch"
)

func ExampleDecrypt() {
	// A response body as the web API returns it.
	env, err := envelope.Encrypt([]byte(`{"incidents":{"active":[]}}`), []byte(pulsewatch.DefaultSecret), []byte("ab12cd34"))
	if err != nil {
		log.Fatal(err)
	}
	body, err := envelope.MarshalWire(env)
	if err != nil {
		log.Fatal(err)
	}

	plain, err := pulsewatch.Decrypt(body, "")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(plain))
	// Output:
	// {"incidents":{"active":[]}}
}
