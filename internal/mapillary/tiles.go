package mapillary

import "threadmap/internal/store"

// TileBBox splits a city bounding box into a grid of tiles no larger than
// sizeDeg on a side. The API caps results per request, so scanning tile by
// tile keeps each request under the page limit even in dense city centers.
func TileBBox(bbox store.BBox, sizeDeg float64) []store.BBox {
	if sizeDeg <= 0 {
		return []store.BBox{bbox}
	}
	var tiles []store.BBox
	for south := bbox.South; south < bbox.North; south += sizeDeg {
		north := south + sizeDeg
		if north > bbox.North {
			north = bbox.North
		}
		for west := bbox.West; west < bbox.East; west += sizeDeg {
			east := west + sizeDeg
			if east > bbox.East {
				east = bbox.East
			}
			tiles = append(tiles, store.BBox{West: west, South: south, East: east, North: north})
		}
	}
	if len(tiles) == 0 {
		// Degenerate box (zero width or height) still yields one tile.
		return []store.BBox{bbox}
	}
	return tiles
}
