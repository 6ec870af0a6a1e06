// Package internaldefs holds the metric names, help texts and histogram
// bounds shared by the Prometheus and OTel exporters, so both expose the
// same series.
package internaldefs
