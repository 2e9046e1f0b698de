// Package families holds one file per hyvectl subcommand group (kv,
// pub-sub, req-res, discovery, apps, file, whoami, init, inspect). Every
// command here does exactly one thing: marshal flags into a bridge call,
// print the result. No core logic lives here.
package families

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/p2p-industries/hyveos-sub001/internal/bridgeclient"
)

// GlobalOptions are the persistent flags every subcommand shares.
type GlobalOptions struct {
	SocketPath string
	Output     string
}

func (o *GlobalOptions) dial() (*bridgeclient.Client, error) {
	c, err := bridgeclient.Dial(o.SocketPath)
	if err != nil {
		return nil, err
	}
	c.SetDeadline(30 * time.Second)
	return c, nil
}

// printResult renders data according to the --output flag: "json" prints it
// verbatim, anything else falls back to text via the supplied formatter.
func printResult(o *GlobalOptions, data json.RawMessage, text func(json.RawMessage) (string, error)) error {
	if o.Output == "json" || text == nil {
		fmt.Println(string(data))
		return nil
	}
	s, err := text(data)
	if err != nil {
		return err
	}
	fmt.Println(s)
	return nil
}
