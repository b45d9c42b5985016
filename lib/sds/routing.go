package sds

import (
	"fmt"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"path"
)

// route returns the transport kind of the first route whose pattern matches name
func route(routes []common.Route, name string) (common.TransportKind, error) {
	for _, r := range routes {
		if ok, _ := path.Match(r.Pattern, name); ok {
			return r.Transport, nil
		}
	}
	return "", fmt.Errorf("%w: no route for %q", ErrParameter, name)
}
