/*
 * Copyright (c) 2024, OLA control core contributors.
 */
package loop_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestLoop(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
