//go:build !debug

package liberr

const debugBuild = false
