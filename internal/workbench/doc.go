// Package workbench assembles the seller chat workbench from configuration:
// a REST client, a live feed connection scoped to the selected account, and a
// session reconciler that merges both into one consistent view.
package workbench
