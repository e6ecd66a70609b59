package util

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestEtherToWei(t *testing.T) {
	c := qt.New(t)

	wei, err := EtherToWei("0.001")
	c.Assert(err, qt.IsNil)
	c.Assert(wei.String(), qt.Equals, "1000000000000000")

	wei, err = EtherToWei("2")
	c.Assert(err, qt.IsNil)
	c.Assert(wei.String(), qt.Equals, "2000000000000000000")

	wei, err = EtherToWei("0.000000000000000001")
	c.Assert(err, qt.IsNil)
	c.Assert(wei.Int64(), qt.Equals, int64(1))

	for _, bad := range []string{"", "abc", "-1", "0.0000000000000000001"} {
		_, err := EtherToWei(bad)
		c.Assert(err, qt.Not(qt.IsNil), qt.Commentf("input %q", bad))
	}
}

func TestWeiToEther(t *testing.T) {
	c := qt.New(t)
	c.Assert(WeiToEther(big.NewInt(1e15)), qt.Equals, "0.001")
	c.Assert(WeiToEther(nil), qt.Equals, "0")
}
