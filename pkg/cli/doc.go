// Package cli holds the plumbing behind the condwave command: the config
// file, request loading, output formatting and terminal rendering.
//
// Configuration lives in ~/.condwave/config.yaml unless a path is given:
//
//	model:
//	  use_vae: true
//	  wavenet:      {n_cond_channels: 16}
//	  cond_wavenet: {n_in_channels: 88, n_out_channels: 16}
//	store:
//	  dir: /var/lib/condwave/blobs
//
// Results are written with Output, which renders YAML by default, JSON on
// request, and can filter the result through a jq expression first:
//
//	cli.Output(result, cli.OutputOptions{Format: cli.FormatJSON, Query: ".usage"})
package cli
