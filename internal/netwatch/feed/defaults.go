/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package feed

// DefaultDescriptors returns the built-in feed set every deployment
// starts with. It includes no Custom feed.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			Name:   "urlhaus",
			Family: URLhaus,
			URL:    "https://urlhaus.abuse.ch/downloads/text",
		},
		{
			Name:   "phishing_army",
			Family: PhishingArmy,
			URL:    "https://phishing.army/download/phishing_army_blocklist_extended.txt",
		},
		{
			Name:   "ipsum",
			Family: IPsum,
			URL:    "https://raw.githubusercontent.com/stamparm/ipsum/master/ipsum.txt",
			Level:  2,
		},
	}
}
