package memory

import "github.com/dmgrid/nsfabric/pkg/nsinode"

func init() {
	nsinode.Register("memory", func(driver, addr string) (nsinode.Backend, error) {
		return New(), nil
	})
}
