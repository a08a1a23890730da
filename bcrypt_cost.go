//go:build !race

package savvy

func passwordHashCost() int {
	// Deliberately slow; equivalent protection to the source deployment.
	return 12
}
