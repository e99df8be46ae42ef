/*
Package webdriver is a W3C WebDriver client.

It covers what a scripted UI check needs: sessions, element lookup, clicks
and typing, dropdowns, frames, timeouts, bounded waits, screenshots and
browser logs. It also starts ChromeDriver or GeckoDriver locally, optionally
inside an X virtual frame buffer.

Remote ends that still answer in the JSON wire dialect are tolerated: a
non-zero "status" field in a reply is reported as an *Error.
*/
package webdriver
