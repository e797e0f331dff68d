package httpx

import (
	"crypto/tls"
	"crypto/x509"
)

func parseLeaf(c *tls.Certificate) (int64, error) {
	leaf, err := x509.ParseCertificate(c.Certificate[0])
	if err != nil {
		return 0, err
	}
	return leaf.SerialNumber.Int64(), nil
}
