// Package storage answers "is this chapter already archived?".
//
// MarkerStore keeps a hidden ".<chapterID>" file per chapter in the
// publication folder whose content is the archive path. Resolver runs an
// ordered chain of rules and stops at the first match:
//
//   - DirectPathRule: "<folder>/<folder> - Vol.V Ch.C[ - name].cbz" exists
//   - MarkerRule: the marker points at an existing file (stale markers are removed)
//   - StrictScanRule: an archive name contains "Vol.V Ch.C" as a whole token
//   - FuzzyNameRule: a lenient volume/chapter/name parse of the archive names
//
// Each rule is usable on its own, and StrictNameMatch and FuzzyNameMatch can
// be tested against literal file names.
//
//	markers := storage.NewMarkerStore(root, 0o775)
//	resolver := storage.NewResolver(root, markers, log)
//	if resolver.IsDownloaded(chapter) {
//	    return
//	}
package storage
