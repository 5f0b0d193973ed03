package coord

// HungarianEOV implements the Projection interface for EPSG:23700 (HD72 / EOV).
// Uses a pair of bivariate 5th-degree polynomial fits per direction instead of
// the full oblique Mercator on the IUGG67 ellipsoid.
// Accuracy: a few metres inside Hungary. Outside the fitted region results stay
// finite but degrade quickly, no range check is done.
type HungarianEOV struct{}

func (h *HungarianEOV) EPSG() int { return 23700 }

// ToWGS84 converts EOV x/y (metres) to WGS84 longitude/latitude (degrees).
func (h *HungarianEOV) ToWGS84(x, y float64) (lon, lat float64) {
	return EOVToWGS(x, y)
}

// FromWGS84 converts WGS84 longitude/latitude (degrees) to EOV x/y (metres).
func (h *HungarianEOV) FromWGS84(lon, lat float64) (x, y float64) {
	return WGSToEOV(lat, lon)
}

// Coefficients of the WGS84 -> EOV fit, one entry per monomial of eovBasis.
var (
	wgsToEOVX = [eovTerms]float64{
		-1446726.767770151, 108117.591628471, -3583.808104234472,
		-2878.331381368081, 5954.115141624551, 600.6820679113122,
		-162.8630710077665, -1.605983921549304, -167.0351526678922,
		94.17357187299571, -1.022705170995968, -0.2102529715747726,
		8.374653367902908, -1.669835602681263, -0.5687852934137064,
		-0.0102364897314749, 3.145747727117474e-03, 4.243461608104641e-02,
		-0.1220651621472777, 6.164319332818425e-02, -0.0111868486664331,
	}
	wgsToEOVY = [eovTerms]float64{
		-4572371.701246022, -52255.9076175919, 116715.2509863826,
		-1754.425960153494, 4925.95947889304, -802.4934365679912,
		-120.2800919458708, 23.43715857596192, -110.9503311938763,
		115.8136579157841, -0.5059586206164071, -0.4012364834317996,
		5.931656910019214, -1.601265506199198, -1.274622462961672,
		-4.413111236599502e-03, 3.290048806865441e-03, 1.958970187546845e-02,
		-7.879204301801745e-02, 4.433181641666852e-02, -2.052809717688681e-03,
	}
)

// Coefficients of the EOV -> WGS84 fit.
var (
	eovToWGSLon = [eovTerms]float64{
		10.7875129788011, 1.261583194250094e-05, -1.337106981037251e-06,
		2.002452331639742e-12, 2.084152383162452e-13, -2.054768579822759e-13,
		-9.738584419072772e-20, -5.483528404311994e-20, 1.23213233745917e-19,
		3.025094136623967e-19, -1.184716569673144e-26, -1.586266440922264e-26,
		-5.710893755348441e-26, 2.386706396303865e-26, 1.022531720857679e-25,
		4.323474303592353e-33, -2.948540564438182e-32, -7.396192857879473e-33,
		5.827371979438498e-33, -5.800855076829614e-32, 7.038862467233239e-32,
	}
	eovToWGSLat = [eovTerms]float64{
		45.03598737541833, 9.467557805655573e-07, 8.944343409479448e-06,
		1.513858594286746e-13, -7.156051828482407e-13, 5.165384591948798e-15,
		-2.063583413832688e-20, -4.109505458046855e-20, -1.122684679257782e-19,
		3.501143099511104e-20, 1.028110785949134e-26, -2.622544479899277e-27,
		-7.552805583186812e-27, -3.616373201962183e-26, 1.404861943257385e-26,
		-1.699287352669952e-33, 2.784410147303859e-32, 4.57732017597244e-33,
		3.221377538677363e-33, 9.501361872651711e-33, -3.483788985528678e-32,
	}
)

const eovTerms = 21

// WGSToEOV converts a WGS84 latitude/longitude (degrees) to EOV x/y (metres).
// Note the argument order: latitude first.
func WGSToEOV(lat, lon float64) (x, y float64) {
	p := eovBasis(lon, lat)
	return dot(&p, &wgsToEOVX), dot(&p, &wgsToEOVY)
}

// EOVToWGS converts EOV x/y (metres) to WGS84 longitude/latitude (degrees).
// Unlike WGSToEOV, the first result is the longitude.
func EOVToWGS(x, y float64) (lon, lat float64) {
	p := eovBasis(x, y)
	return dot(&p, &eovToWGSLon), dot(&p, &eovToWGSLat)
}

// eovBasis returns the monomials of a and b up to degree 5 in the order the
// coefficient tables were fitted with. The order is not the natural
// graded-lexicographic one, keep it as is.
func eovBasis(a, b float64) [eovTerms]float64 {
	return [eovTerms]float64{
		1,
		a,
		b,
		a * b,
		a * a,
		b * b,
		a * a * a,
		b * b * b,
		a * a * b,
		a * b * b,
		a * a * a * a,
		b * b * b * b,
		a * a * a * b,
		a * a * b * b,
		a * b * b * b,
		a * a * a * a * a,
		b * b * b * b * b,
		a * a * a * a * b,
		a * a * a * b * b,
		a * a * b * b * b,
		a * b * b * b * b,
	}
}

func dot(p, c *[eovTerms]float64) float64 {
	var sum float64
	for i := range p {
		sum += p[i] * c[i]
	}
	return sum
}
