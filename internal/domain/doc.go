// Package domain models the CONUS404 gridded model output and the rules for
// turning it into analysis-ready chunked stores.
//
// # Data Source
//
// CONUS404 is a 40-year, 4 km WRF reanalysis over the contiguous US. Raw
// output arrives as one netCDF file per hour ("wrf2d_d01_YYYY-MM-DD_HH:MM:SS")
// grouped into water-year directories. Water year N runs from 1 October of
// year N-1 through 30 September of year N.
//
// # Grid Conventions
//
// Dimensions are renamed from WRF names on ingest:
//
//	south_north -> y, west_east -> x, south_north_stag -> y_stag,
//	west_east_stag -> x_stag, Time -> time
//
// Every time-varying variable carries time as its leading dimension. Variables
// without a time dimension (terrain, land mask, lat/lon) are constants and are
// written once, with the template.
//
// # Integration Lengths
//
// Each variable's "integration_length" attribute says how its values relate to
// time and drives how it is aggregated:
//
//	instantaneous                                  snapshot, averaged
//	accumulated over prior 60 minutes              hourly total, summed
//	accumulated since 1979-10-01 00:00:00          running total, max minus min
//	accumulated since 1979-10-01 00:00:00 bucket   bucket-split running total
//	24-hour accumulation                           daily total, summed monthly
//	month accumulation                             monthly total
//
// Bucket-split totals come as a pair: a remainder ("ACSWDNB") and an integer
// count of bucket overflows ("I_ACSWDNB"). The true total is remainder plus
// count times the bucket size, which is stored on the remainder variable as
// the "bucket_size" attribute. See [ResolveBucketAccumulation].
//
// # Time Labels
//
// Aggregated periods are labelled at the nominal midpoint of their window,
// shifted back by a per-category offset so that daily values land on the start
// of the day they describe. Accumulated categories read their window one step
// late because an accumulation stamped at hour H covers hour H-1 to H.
package domain
