// Package connector defines content sources and the manifest connector.
//
// A connector lists a publication's chapters and the images of each chapter.
// The manifest connector reads both from YAML files:
//
//	id: alpha
//	name: Alpha
//	authors: [A. Writer]
//	status: Continuing
//	chapters:
//	  - number: "12"
//	    name: The Return
//	    images:
//	      - https://img.example.org/alpha/12/1.png
//	      - https://img.example.org/alpha/12/2.png
//
// Manifests live in the manifest directory as <id>.yaml or are fetched from
// an http(s) URL through the shared rate-limited transport.
package connector
