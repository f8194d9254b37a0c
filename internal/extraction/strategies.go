package extraction

func amazonStrategy() Strategy {
	return Strategy{
		Name:  "amazon",
		Hosts: []string{"amazon"},
		Title: []FieldFunc{
			text("#productTitle"),
			metaProperty("og:title"),
		},
		Price: []FieldFunc{
			joinWholeFraction(".a-price-whole", ".a-price-fraction"),
			priceText("#corePrice_feature_div"),
		},
		Image: []FieldFunc{
			attr("#landingImage", "src"),
			attr("#imgTagWrapperId img", "src"),
			metaProperty("og:image"),
		},
		Script: buildScript("amazon", amazonCollectJS),
	}
}

func sheinStrategy() Strategy {
	return Strategy{
		Name:  "shein",
		Hosts: []string{"shein"},
		Title: []FieldFunc{
			metaProperty("og:title"),
			text("h1"),
		},
		Price: []FieldFunc{
			priceText(`[class*="price"]`),
			priceText("body"),
		},
		Image: []FieldFunc{
			metaProperty("og:image"),
			imageSrcContains("img.ltwebstatic.com"),
		},
		Script: buildScript("shein", genericCollectJS),
	}
}

func zalandoStrategy() Strategy {
	return Strategy{
		Name:  "zalando",
		Hosts: []string{"zalando"},
		Title: []FieldFunc{
			text(`h1[data-testid="product-title"]`),
			text("h1"),
		},
		Price: []FieldFunc{
			priceText("span"),
		},
		Image: []FieldFunc{
			metaProperty("og:image"),
			imageSrcContains("ztat.net"),
		},
		Script: buildScript("zalando", zalandoCollectJS),
	}
}

func asosStrategy() Strategy {
	return Strategy{
		Name:  "asos",
		Hosts: []string{"asos"},
		Title: []FieldFunc{
			text("h1"),
			metaProperty("og:title"),
		},
		Price: []FieldFunc{
			priceText(`[data-testid="product-price"]`),
			priceText(`[data-testid="current-price"]`),
		},
		Image: []FieldFunc{
			metaProperty("og:image"),
			imageSrcContains("asos-media"),
		},
		Script: buildScript("asos", asosCollectJS),
	}
}

func zaraStrategy() Strategy {
	return Strategy{
		Name:  "zara",
		Hosts: []string{"zara"},
		Title: []FieldFunc{
			metaProperty("og:title"),
			text("h1"),
		},
		Price: []FieldFunc{
			priceText(`[class*="price"]`),
			priceText("body"),
		},
		Image: []FieldFunc{
			metaProperty("og:image"),
			imageSrcContains("static.zara.net"),
		},
		Script: buildScript("zara", genericCollectJS),
	}
}

func hmStrategy() Strategy {
	return Strategy{
		Name:  "hm",
		Hosts: []string{"hm.", "h&m", "www2.hm"},
		Title: []FieldFunc{
			docTitleSegment(),
			metaProperty("og:title"),
		},
		Price: []FieldFunc{
			priceText(`[class*="price"]`),
			priceText("body"),
		},
		Image: []FieldFunc{
			metaProperty("og:image"),
			imageSrcContains("image.hm.com"),
		},
		Script: buildScript("hm", hmCollectJS),
	}
}

func genericStrategy() Strategy {
	return Strategy{
		Name:  "generic",
		Hosts: nil,
		Title: []FieldFunc{
			metaProperty("og:title"),
			text("h1"),
			docTitleSegment(),
		},
		Price: []FieldFunc{
			priceText(`[class*="price"]`),
			priceText("body"),
		},
		Image: []FieldFunc{
			metaProperty("og:image"),
		},
		Script: buildScript("generic", genericNoticeJS+genericCollectJS),
	}
}
