package memory

import (
	"testing"

	"github.com/marmos91/dittokv/pkg/namespace"
	nstesting "github.com/marmos91/dittokv/pkg/namespace/testing"
)

func TestMemoryNamespace(t *testing.T) {
	suite := &nstesting.ServiceTestSuite{
		NewService: func(t *testing.T) namespace.Service {
			return New()
		},
	}
	suite.Run(t)
}
