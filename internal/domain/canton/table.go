package canton

// postalRange is an inclusive block of postal codes.
type postalRange struct {
	from, to int
	canton   Code
}

// ranges must stay sorted and non-overlapping. Gaps resolve to Unknown
// (9485-9499 belongs to Liechtenstein).
var ranges = []postalRange{
	{1000, 1199, VD},
	{1200, 1299, GE},
	{1300, 1599, VD},
	{1600, 1799, FR},
	{1800, 1899, VD},
	{1900, 1999, VS},
	{2000, 2499, NE},
	{2500, 2799, BE},
	{2800, 2999, JU},
	{3000, 3899, BE},
	{3900, 3999, VS},
	{4000, 4099, BS},
	{4100, 4499, BL},
	{4500, 4799, SO},
	{4800, 4899, AG},
	{4900, 4999, BE},
	{5000, 5699, AG},
	{6000, 6299, LU},
	{6300, 6349, ZG},
	{6350, 6369, LU},
	{6370, 6389, NW},
	{6390, 6399, OW},
	{6400, 6459, SZ},
	{6460, 6499, UR},
	{6500, 6999, TI},
	{7000, 7799, GR},
	{8000, 8199, ZH},
	{8200, 8299, SH},
	{8300, 8499, ZH},
	{8500, 8599, TG},
	{8600, 8749, ZH},
	{8750, 8799, GL},
	{8800, 8839, ZH},
	{8840, 8859, SZ},
	{8860, 8899, SG},
	{8900, 8999, ZH},
	{9000, 9484, SG},
	{9500, 9549, SG},
	{9550, 9599, TG},
	{9600, 9699, SG},
}

// exceptions are enclaves inside a base range and win over it.
var exceptions = []postalRange{
	{1470, 1489, FR},
	{2740, 2740, JU},
	{4125, 4126, BS},
	{6060, 6068, OW},
	{9050, 9058, AI},
	{9100, 9112, AR},
}
